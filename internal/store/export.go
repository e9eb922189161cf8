package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/cogbattery/internal/model"
)

// ExportAll builds the archive export, oldest report first.
func (s *Store) ExportAll() (model.ArchiveExport, error) {
	info, err := s.GetArchiveInfo()
	if err != nil {
		return model.ArchiveExport{}, fmt.Errorf("archive info: %w", err)
	}

	entries, err := s.ListReports()
	if err != nil {
		return model.ArchiveExport{}, fmt.Errorf("list reports: %w", err)
	}

	reports := make([]model.Report, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		r, err := s.GetReport(entries[i].SessionID)
		if err != nil {
			return model.ArchiveExport{}, fmt.Errorf("get report %s: %w", entries[i].SessionID, err)
		}
		if r != nil {
			reports = append(reports, *r)
		}
	}

	return model.ArchiveExport{
		ExportedAt: time.Now().UTC(),
		Info:       info,
		Count:      len(reports),
		Reports:    reports,
	}, nil
}
