package database

// Stats holds aggregate database statistics.
type Stats struct {
	Requirements   int
	Analyzed       int
	FailedAnalyses int
	CacheEntries   int
	HistoryEntries int
	AverageScore   float64
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM requirements", &s.Requirements},
		{"SELECT COUNT(*) FROM analyses WHERE is_analyzed = 1", &s.Analyzed},
		{"SELECT COUNT(*) FROM analyses WHERE is_analyzed = 0", &s.FailedAnalyses},
		{"SELECT COUNT(*) FROM cache_entries", &s.CacheEntries},
		{"SELECT COUNT(*) FROM analysis_history", &s.HistoryEntries},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	if err := db.conn.QueryRow(
		"SELECT COALESCE(AVG(quality_score), 0) FROM analyses WHERE is_analyzed = 1",
	).Scan(&s.AverageScore); err != nil {
		return nil, err
	}

	return s, nil
}
