package chat

import "strings"

// FilterKey names an independently paginated view over the conversation set.
type FilterKey string

const (
	FilterAll       FilterKey = "All Messages"
	FilterSelling   FilterKey = "Selling"
	FilterBuying    FilterKey = "Buying"
	FilterUnread    FilterKey = "Unread"
	FilterSold      FilterKey = "Sold"
	FilterPurchased FilterKey = "Purchased"
	FilterArchived  FilterKey = "Archived"
)

const listingFilterPrefix = "listing:"

// DefaultFilters returns the named filters in selector order.
func DefaultFilters() []FilterKey {
	return []FilterKey{
		FilterAll,
		FilterSelling,
		FilterBuying,
		FilterUnread,
		FilterSold,
		FilterPurchased,
		FilterArchived,
	}
}

// ListingFilter returns the implicit filter scoped to one listing.
func ListingFilter(listingID string) FilterKey {
	return FilterKey(listingFilterPrefix + strings.TrimSpace(listingID))
}

// ListingID reports the listing a listing-scoped filter points at.
func (f FilterKey) ListingID() (string, bool) {
	raw := string(f)
	if !strings.HasPrefix(raw, listingFilterPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(raw, listingFilterPrefix)
	return id, id != ""
}

// QueryValue is the value sent as the filter query parameter.
// Listing-scoped views query the "All Messages" filter narrowed by listingId.
func (f FilterKey) QueryValue() string {
	if _, ok := f.ListingID(); ok {
		return string(FilterAll)
	}
	return string(f)
}

// ExcludedAfterArchive reports whether a conversation whose archived flag was
// just set to archived no longer belongs in filter f. Listing-scoped filters
// are left to the server.
func ExcludedAfterArchive(f FilterKey, archived bool) bool {
	if _, ok := f.ListingID(); ok {
		return false
	}
	if archived {
		return f != FilterArchived
	}
	return f == FilterArchived
}

// ParseFilters splits a comma separated list, keeping order and dropping duplicates.
func ParseFilters(raw string) []FilterKey {
	seen := make(map[FilterKey]struct{})
	out := make([]FilterKey, 0)
	for _, part := range strings.Split(raw, ",") {
		key := FilterKey(strings.TrimSpace(part))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
