package alerts

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/stpaulobs/turbosched/internal/clock"
	"github.com/stpaulobs/turbosched/internal/logging"
	"github.com/stpaulobs/turbosched/internal/metrics"
	"github.com/stpaulobs/turbosched/internal/targets"
	"github.com/stpaulobs/turbosched/internal/tessellation"
)

const grbFieldCutoff = 100

// grbErrorBuffer is the fixed systematic error added to every GRB
// localization radius, matching fermi_alert.py's error_buff =
// sqrt(3.25**2 + 2.07**2)/2.
var grbErrorBuffer = math.Sqrt(3.25*3.25+2.07*2.07) / 2

// GRBHandler is the Fermi GBM ground-position handler, grounded on
// fermi_alert.py's FermiAlertHandler.handle_alert.
type GRBHandler struct {
	Grid     *tessellation.Grid
	Buffer   *Buffer
	Signal   *Signal
	AuditDir string
	Clock    clock.Clock
	Log      logging.Logger
	Metrics  *metrics.Collectors
}

// reject records an alert dropped before publish, with reason as a
// fixed low-cardinality label.
func (h *GRBHandler) reject(reason string) {
	if h.Metrics != nil {
		h.Metrics.AlertsRejected.WithLabelValues("grb", reason).Inc()
	}
}

// Handle processes one FERMI_GBM_GND_POS VOEvent message.
func (h *GRBHandler) Handle(ctx context.Context, msg Message) {
	doc, err := parseVOEvent(msg.XML)
	if err != nil {
		h.logWarn(ctx, "parse VOEvent failed", err)
		h.reject("parse_error")
		return
	}

	eventName := fmt.Sprintf("%s_%d", topicTail(msg.Topic), msg.Offset)
	if err := writeAuditXML(h.AuditDir, eventName+".xml", msg.XML); err != nil {
		h.logWarn(ctx, "write audit xml failed", err)
	}

	raText, ok1 := elementText(doc, "C1")
	decText, ok2 := elementText(doc, "C2")
	errText, ok3 := elementText(doc, "Error2Radius")
	if !ok1 || !ok2 || !ok3 {
		h.logWarn(ctx, "ra, dec, or error element not found in the XML", nil)
		h.reject("missing_coordinates")
		return
	}

	raDeg, err1 := strconv.ParseFloat(raText, 64)
	decDeg, err2 := strconv.ParseFloat(decText, 64)
	errorDeg, err3 := strconv.ParseFloat(errText, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		h.logWarn(ctx, "ra, dec, or error element not numeric", nil)
		h.reject("non_numeric_coordinates")
		return
	}
	errorDeg += grbErrorBuffer

	center := sphericalUnitVector(raDeg*math.Pi/180, decDeg*math.Pi/180)
	chordRadius := tessellation.AngularToChordRadius(errorDeg * math.Pi / 180)

	fieldIDs := h.Grid.QueryRadius(center, chordRadius)
	if len(fieldIDs) > grbFieldCutoff {
		h.logInfo(ctx, fmt.Sprintf("rejected alert, not localized (%d fields)", len(fieldIDs)))
		h.reject("under_localized")
		return
	}

	trigID, ok := paramValue(doc, "TrigID")
	if !ok {
		h.logWarn(ctx, "alert missing TrigID", nil)
		h.reject("missing_trig_id")
		return
	}

	set := make(targets.TargetSet, len(fieldIDs))
	lines := make([]string, len(fieldIDs))
	for i, idx := range fieldIDs {
		field := h.Grid.Fields()[idx]
		fRaDeg := field.RARad * 180 / math.Pi
		fDecDeg := field.DecRad * 180 / math.Pi
		name := strconv.Itoa(idx)
		set[i] = targets.Target{Name: name, RADeg: fRaDeg, DecDeg: fDecDeg}
		lines[i] = fmt.Sprintf("%s,%.5f,%.5f", name, fRaDeg, fDecDeg)
	}
	if err := writeAuditTargets(h.AuditDir, eventName, lines); err != nil {
		h.logWarn(ctx, "write audit targets failed", err)
	}

	now := h.Clock.Now()
	h.Buffer.Publish(targets.Schedule{
		Name:       trigID,
		Targets:    set,
		Priority:   1,
		Expiration: expirationIn30Minutes(now),
	})
	h.Signal.Raise()
}

func (h *GRBHandler) logWarn(ctx context.Context, msg string, err error) {
	if h.Log == nil {
		return
	}
	h.Log.WarnCtx(ctx, msg, "err", err)
}

func (h *GRBHandler) logInfo(ctx context.Context, msg string) {
	if h.Log == nil {
		return
	}
	h.Log.InfoCtx(ctx, msg)
}
