package app

import (
	"context"

	"github.com/eclosion-app/eclosion/internal/apperr"
	"github.com/eclosion-app/eclosion/pkg/upstream"
)

// unconfiguredUpstreamClient satisfies upstream.Client so the scheduler and
// refunds service can be constructed before a real upstream adapter is
// deployed; every method reports apperr.NotConfigured (spec.md §7's
// "credentials missing" kind) rather than leaving a nil interface that would
// panic on first use.
type unconfiguredUpstreamClient struct{}

func newUnconfiguredUpstreamClient() upstream.Client {
	return unconfiguredUpstreamClient{}
}

func (unconfiguredUpstreamClient) GetTransactions(context.Context, upstream.TransactionFilter) ([]upstream.Transaction, error) {
	return nil, apperr.NotConfiguredErr("upstream credentials not configured")
}

func (unconfiguredUpstreamClient) SearchTransactions(context.Context, upstream.SearchFilter) ([]upstream.Transaction, error) {
	return nil, apperr.NotConfiguredErr("upstream credentials not configured")
}

func (unconfiguredUpstreamClient) ListTags(context.Context) ([]upstream.Tag, error) {
	return nil, apperr.NotConfiguredErr("upstream credentials not configured")
}

func (unconfiguredUpstreamClient) ListCategoryGroups(context.Context) ([]upstream.CategoryGroup, error) {
	return nil, apperr.NotConfiguredErr("upstream credentials not configured")
}

func (unconfiguredUpstreamClient) SetTags(context.Context, string, []string) error {
	return apperr.NotConfiguredErr("upstream credentials not configured")
}

func (unconfiguredUpstreamClient) UpdateNotes(context.Context, string, string) error {
	return apperr.NotConfiguredErr("upstream credentials not configured")
}

func (unconfiguredUpstreamClient) GetNotes(context.Context, string) (string, error) {
	return "", apperr.NotConfiguredErr("upstream credentials not configured")
}
