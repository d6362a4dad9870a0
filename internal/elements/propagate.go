package elements

import (
	"time"

	"github.com/star/ephemgo/internal/transform"
)

// Propagate advances the elements to target by applying the secular rates
// over the elapsed Julian centuries. The receiver is not modified; the
// result carries target as its epoch.
func (es ElementSet) Propagate(target time.Time) ElementSet {
	t := transform.CenturiesBetween(es.Epoch, target)

	out := es
	out.A = es.A + es.Rates.A*t
	out.E = es.E + es.Rates.E*t
	out.I = transform.WrapAngle(es.I + es.Rates.I*t)
	out.L = transform.WrapAngle(es.L + es.Rates.L*t)
	out.LongPeri = transform.WrapAngle(es.LongPeri + es.Rates.LongPeri*t)
	out.LongNode = transform.WrapAngle(es.LongNode + es.Rates.LongNode*t)
	out.Epoch = target
	return out
}
