// Package orders publishes newly created orders and their lots to downstream
// systems.
package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewLotCode returns LOT-<CC>-<yyyymmdd>-<8 hex>, where CC is the first two
// letters of the facility country.
func NewLotCode(country string, orderDate time.Time) string {
	cc := strings.ToUpper(strings.TrimSpace(country))
	switch {
	case len(cc) >= 2:
		cc = cc[:2]
	case cc == "":
		cc = "XX"
	default:
		cc += "X"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("LOT-%s-%s-%s", cc, orderDate.Format("20060102"), suffix)
}
