package meta

import "context"

// Stats are basic row counts for operator visibility.
type Stats struct {
	Records   int64 `json:"records"`
	Envelopes int64 `json:"envelopes"`
	Blobs     int64 `json:"blobs"`
	Pins      int64 `json:"pins"`
	BlobPins  int64 `json:"blob_pins"`
	Owners    int64 `json:"owners"`
	BytesUsed int64 `json:"bytes_used"`
}

// Stats counts the store's rows and total reserved bytes.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM records", &st.Records},
		{"SELECT COUNT(*) FROM envelopes", &st.Envelopes},
		{"SELECT COUNT(*) FROM blobs", &st.Blobs},
		{"SELECT COUNT(*) FROM pins", &st.Pins},
		{"SELECT COUNT(*) FROM blob_pins", &st.BlobPins},
		{"SELECT COUNT(*) FROM quotas", &st.Owners},
		{"SELECT COALESCE(SUM(bytes_used), 0) FROM quotas", &st.BytesUsed},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, err
		}
	}
	return &st, nil
}
