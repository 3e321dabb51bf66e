// Package pagination drives cursor-based pagination for the Slack Web API.
//
// Slack list endpoints return a page of results together with a `has_more`
// flag and a `response_metadata.next_cursor` continuation token. Pages must be
// requested strictly in order, because every cursor is only known once the
// previous page has been received. Walk implements that loop as a small state
// machine:
//
//	Start ──page──▶ HasCursor(token) ──page──▶ ... ──page──▶ Done
//	  └───────────────────────page (has_more=false)──────────▶ Done
//
// Example usage:
//
//	pages, err := pagination.Walk(ctx, "conversations.history",
//		func(ctx context.Context, cursor string) (pagination.Continuation, error) {
//			page, err := fetchOne(ctx, cursor)
//			if err != nil {
//				return pagination.Continuation{}, err
//			}
//			return pagination.Continuation{HasMore: page.HasMore, NextCursor: page.Cursor}, nil
//		})
//
// Walk stops on the first error returned by the page function and hands it
// back unchanged.
package pagination
