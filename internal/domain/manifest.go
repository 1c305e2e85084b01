package domain

import (
	"errors"
	"fmt"
)

// Manifest is the service-produced per-job summary written next to the
// output file.
type Manifest struct {
	TotalRecords int   `json:"totalRecords"`
	SuccessCount int   `json:"successCount"`
	ErrorCount   int   `json:"errorCount"`
	Usage        Usage `json:"usage"`
}

func (m Manifest) Validate() error {
	if m.TotalRecords < 0 || m.SuccessCount < 0 || m.ErrorCount < 0 {
		return errors.New("record counts must not be negative")
	}
	if m.SuccessCount+m.ErrorCount != m.TotalRecords {
		return fmt.Errorf("record counts inconsistent: %d success + %d error != %d total",
			m.SuccessCount, m.ErrorCount, m.TotalRecords)
	}
	if m.Usage.InputTokens < 0 || m.Usage.OutputTokens < 0 {
		return errors.New("token counters must not be negative")
	}
	return nil
}
