package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/propagation"
	"github.com/star/ephemgo/internal/transform"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type vectorJSON struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Distance float64 `json:"distance_au"`
}

func toVectorJSON(v transform.Vector) vectorJSON {
	return vectorJSON{X: v.X, Y: v.Y, Z: v.Z, Distance: v.Norm()}
}

type bodyJSON struct {
	Name                string     `json:"name"`
	Position            vectorJSON `json:"position"`
	Converged           bool       `json:"converged"`
	Outcome             string     `json:"outcome"`
	Iterations          int        `json:"iterations"`
	Epsilon             float64    `json:"epsilon"`
	MeanAnomalyDeg      float64    `json:"mean_anomaly_deg"`
	EccentricAnomalyDeg float64    `json:"eccentric_anomaly_deg"`
	TrueAnomalyDeg      float64    `json:"true_anomaly_deg"`
}

func toBodyJSON(bp propagation.BodyPosition, pos transform.Vector) bodyJSON {
	return bodyJSON{
		Name:                bp.Body,
		Position:            toVectorJSON(pos),
		Converged:           bp.Converged(),
		Outcome:             bp.Outcome.String(),
		Iterations:          bp.Iterations,
		Epsilon:             bp.Epsilon,
		MeanAnomalyDeg:      transform.Degrees(bp.Course.MeanAnomaly),
		EccentricAnomalyDeg: transform.Degrees(transform.WrapAngle(bp.Course.EccentricAnomaly)),
		TrueAnomalyDeg:      transform.Degrees(transform.WrapAngle(bp.Course.TrueAnomaly)),
	}
}

type failureJSON struct {
	Body  string `json:"body"`
	Error string `json:"error"`
}

type snapshotJSON struct {
	Timestamp  time.Time     `json:"timestamp"`
	JulianDate float64       `json:"julian_date"`
	RelativeTo string        `json:"relative_to,omitempty"`
	Cached     bool          `json:"cached"`
	Bodies     []bodyJSON    `json:"bodies"`
	Failures   []failureJSON `json:"failures,omitempty"`
}

// toSnapshotJSON renders a snapshot, optionally re-centred on ref. rel must
// be the output of snap.RelativeTo(ref) when ref is set.
func toSnapshotJSON(snap *propagation.Snapshot, ref string, rel map[string]transform.Position, cached bool) snapshotJSON {
	out := snapshotJSON{
		Timestamp:  snap.Timestamp.UTC(),
		JulianDate: transform.JulianDate(snap.Timestamp),
		RelativeTo: ref,
		Cached:     cached,
		Bodies:     make([]bodyJSON, 0, len(snap.Bodies)),
	}
	for _, bp := range snap.Bodies {
		pos := bp.Position
		if ref != "" {
			p, ok := rel[bp.Body]
			if !ok {
				continue
			}
			pos = p.Vector
		}
		out.Bodies = append(out.Bodies, toBodyJSON(bp, pos))
	}
	for _, f := range snap.Failures {
		out.Failures = append(out.Failures, failureJSON{Body: f.Body, Error: f.Err.Error()})
	}
	return out
}

type ratesJSON struct {
	A           float64 `json:"a"`
	E           float64 `json:"e"`
	IDeg        float64 `json:"i_deg"`
	LDeg        float64 `json:"L_deg"`
	LongPeriDeg float64 `json:"long_peri_deg"`
	LongNodeDeg float64 `json:"long_node_deg"`
}

type elementSetJSON struct {
	Name        string    `json:"name"`
	A           float64   `json:"a"`
	E           float64   `json:"e"`
	IDeg        float64   `json:"i_deg"`
	LDeg        float64   `json:"L_deg"`
	LongPeriDeg float64   `json:"long_peri_deg"`
	LongNodeDeg float64   `json:"long_node_deg"`
	RatesPerCy  ratesJSON `json:"rates_per_century"`
	Epoch       time.Time `json:"epoch"`
}

type datasetJSON struct {
	Source    string           `json:"source"`
	FetchedAt time.Time        `json:"fetched_at"`
	Epoch     time.Time        `json:"epoch"`
	Count     int              `json:"count"`
	Bodies    []elementSetJSON `json:"bodies,omitempty"`
}

func toDatasetJSON(ds *elements.Dataset, withBodies bool) datasetJSON {
	out := datasetJSON{
		Source:    ds.Source,
		FetchedAt: ds.FetchedAt.UTC(),
		Epoch:     ds.Epoch.UTC(),
		Count:     len(ds.Bodies),
	}
	if !withBodies {
		return out
	}
	deg := transform.Degrees
	for _, es := range ds.Bodies {
		out.Bodies = append(out.Bodies, elementSetJSON{
			Name:        es.Name,
			A:           es.A,
			E:           es.E,
			IDeg:        deg(es.I),
			LDeg:        deg(es.L),
			LongPeriDeg: deg(es.LongPeri),
			LongNodeDeg: deg(es.LongNode),
			RatesPerCy: ratesJSON{
				A:           es.Rates.A,
				E:           es.Rates.E,
				IDeg:        deg(es.Rates.I),
				LDeg:        deg(es.Rates.L),
				LongPeriDeg: deg(es.Rates.LongPeri),
				LongNodeDeg: deg(es.Rates.LongNode),
			},
			Epoch: es.Epoch.UTC(),
		})
	}
	return out
}
