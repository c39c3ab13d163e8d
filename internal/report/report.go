package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"geoattend/internal/attendance"
)

var lateHeader = []string{"username", "email", "late_count", "total_checkins"}

// WriteLateCSV writes one row per user with their late and total check-in counts.
func WriteLateCSV(w io.Writer, rows []attendance.LateCount) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(lateHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Username, r.Email, strconv.Itoa(r.Late), strconv.Itoa(r.Total)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
