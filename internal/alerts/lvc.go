package alerts

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/stpaulobs/turbosched/internal/clock"
	"github.com/stpaulobs/turbosched/internal/logging"
	"github.com/stpaulobs/turbosched/internal/metrics"
	"github.com/stpaulobs/turbosched/internal/targets"
	"github.com/stpaulobs/turbosched/internal/tessellation"
)

const (
	lvcDefaultCutoff = 100
	lvcBBHCutoff     = 10
	lvcNinetyPercent = 0.9
)

// LVCHandler is the LVC gravitational-wave alert handler, grounded on
// lvc_alert.py's LvcAlertHandler.handle_alert and
// _generate_fields_from_skymap.
type LVCHandler struct {
	Grid       *tessellation.Grid
	Buffer     *Buffer
	Signal     *Signal
	AuditDir   string
	HTTPClient *http.Client
	Clock      clock.Clock
	Log        logging.Logger
	Metrics    *metrics.Collectors
}

// reject records an alert dropped before publish, with reason as a
// fixed low-cardinality label.
func (h *LVCHandler) reject(reason string) {
	if h.Metrics != nil {
		h.Metrics.AlertsRejected.WithLabelValues("lvc", reason).Inc()
	}
}

// Handle processes one LVC VOEvent message.
func (h *LVCHandler) Handle(ctx context.Context, msg Message) {
	doc, err := parseVOEvent(msg.XML)
	if err != nil {
		h.logWarn(ctx, "parse VOEvent failed", err)
		h.reject("parse_error")
		return
	}
	if voEventRole(doc) != "observation" {
		return
	}

	eventName := fmt.Sprintf("%s_%d", topicTail(msg.Topic), msg.Offset)
	if err := writeAuditXML(h.AuditDir, eventName+".xml", msg.XML); err != nil {
		h.logWarn(ctx, "write audit xml failed", err)
	}

	alertType, ok := paramValue(doc, "AlertType")
	if !ok {
		h.logWarn(ctx, "alert missing AlertType", nil)
		h.reject("missing_alert_type")
		return
	}
	graceID, ok := paramValue(doc, "GraceID")
	if !ok {
		h.logWarn(ctx, "alert missing GraceID", nil)
		h.reject("missing_grace_id")
		return
	}

	if alertType == "Retraction" {
		now := h.Clock.Now()
		h.Buffer.Publish(targets.Schedule{
			Name:       graceID,
			Targets:    nil,
			Priority:   0,
			Expiration: now,
		})
		h.Signal.Raise()
		return
	}

	if v, ok := paramValue(doc, "Terrestrial"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0.9 {
			h.logInfo(ctx, "rejected alert, probably terrestrial")
			h.reject("terrestrial")
			return
		}
	}
	if v, ok := paramValue(doc, "FAR"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 1e-8 {
			h.logInfo(ctx, "rejected alert, too unlikely to be real")
			h.reject("far_too_high")
			return
		}
	}

	fitsURL, ok := paramValue(doc, "skymap_fits")
	if !ok {
		h.logWarn(ctx, "alert missing skymap_fits", nil)
		h.reject("missing_skymap_url")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fitsURL, nil)
	if err != nil {
		h.logWarn(ctx, "build skymap download request failed", err)
		h.reject("skymap_request_build_failed")
		return
	}
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		h.logWarn(ctx, "download skymap failed", err)
		h.reject("skymap_download_failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		h.logWarn(ctx, fmt.Sprintf("skymap download returned status %d", resp.StatusCode), nil)
		h.reject("skymap_download_status")
		return
	}

	pixels, err := readMultiOrderSkymap(resp.Body)
	if err != nil {
		h.logWarn(ctx, "parse skymap FITS failed", err)
		h.reject("skymap_parse_failed")
		return
	}

	tiled := h.tileNinetyPercent(pixels)

	cutoff := lvcDefaultCutoff
	if v, ok := paramValue(doc, "BBH"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0.9 {
			h.logInfo(ctx, "probably a BBH, reducing localization cutoff")
			cutoff = lvcBBHCutoff
		}
	}
	if len(tiled) > cutoff {
		h.logInfo(ctx, fmt.Sprintf("rejected alert, not localized (%d fields)", len(tiled)))
		h.reject("under_localized")
		return
	}

	set := make(targets.TargetSet, len(tiled))
	lines := make([]string, len(tiled))
	for i, f := range tiled {
		field := h.Grid.Fields()[f.fieldIndex]
		raDeg := field.RARad * 180 / math.Pi
		decDeg := field.DecRad * 180 / math.Pi
		name := strconv.Itoa(f.fieldIndex)
		set[i] = targets.Target{Name: name, RADeg: raDeg, DecDeg: decDeg}
		lines[i] = fmt.Sprintf("%s,%.5f,%.5f", name, raDeg, decDeg)
	}
	if err := writeAuditTargets(h.AuditDir, eventName, lines); err != nil {
		h.logWarn(ctx, "write audit targets failed", err)
	}

	now := h.Clock.Now()
	h.Buffer.Publish(targets.Schedule{
		Name:       graceID,
		Targets:    set,
		Priority:   1,
		Expiration: expirationIn30Minutes(now),
	})
	h.Signal.Raise()
}

type weightedField struct {
	fieldIndex int
	weight     float64
}

// tileNinetyPercent sorts pixels by descending PROBDENSITY, keeps the
// smallest prefix whose cumulative pixel-area-weighted probability
// reaches 0.9, maps each kept pixel to its nearest tessellation field,
// accumulates per-field probability, and returns fields sorted by
// accumulated probability descending — ported from
// _generate_fields_from_skymap.
func (h *LVCHandler) tileNinetyPercent(pixels []skymapPixel) []weightedField {
	sorted := make([]skymapPixel, len(pixels))
	copy(sorted, pixels)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ProbDensity > sorted[j].ProbDensity })

	cum := 0.0
	weights := make(map[int]float64)
	for _, px := range sorted {
		level, ipix := uniqToLevelIpix(px.Uniq)
		nside := levelToNside(level)
		area := nsideToPixelArea(nside)
		prob := area * px.ProbDensity

		if cum >= lvcNinetyPercent {
			break
		}
		cum += prob

		lon, lat := healpixToLonLat(ipix, nside)
		center := sphericalUnitVector(lon, lat)
		idx, ok := h.Grid.Nearest(center)
		if !ok {
			continue
		}
		weights[idx] += prob
	}

	out := make([]weightedField, 0, len(weights))
	for idx, w := range weights {
		out = append(out, weightedField{fieldIndex: idx, weight: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].weight > out[j].weight })
	return out
}

func (h *LVCHandler) logWarn(ctx context.Context, msg string, err error) {
	if h.Log == nil {
		return
	}
	h.Log.WarnCtx(ctx, msg, "err", err)
}

func (h *LVCHandler) logInfo(ctx context.Context, msg string) {
	if h.Log == nil {
		return
	}
	h.Log.InfoCtx(ctx, msg)
}

// topicTail returns the final "."-separated component of topic, e.g.
// "gcn.classic.voevent.LVC_PRELIMINARY" -> "LVC_PRELIMINARY".
func topicTail(topic string) string {
	parts := strings.Split(topic, ".")
	return parts[len(parts)-1]
}
