package classifier

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/territory-intel/internal/model"
)

const (
	maxBucketChars = 80
	maxReasonChars = 400
)

// wireClassification mirrors the JSON contract with loose types so a
// strict decode can fail over to the repair path.
type wireClassification struct {
	IndustryBucket   string `json:"industry_bucket"`
	MobilityFit      int64  `json:"mobility_fit"`
	SecurityFit      int64  `json:"security_fit"`
	VoipFit          int64  `json:"voip_fit"`
	FleetAttach      int64  `json:"fleet_attach"`
	SignalAfterHours int64  `json:"signal_after_hours"`
	SignalDispatch   int64  `json:"signal_dispatch"`
	SignalFieldWork  int64  `json:"signal_field_work"`
	Reason           string `json:"ai_reason"`
}

// ParseClassification turns raw model output into a validated
// Classification. It first tries a strict decode of the exact contract;
// on failure it reparses leniently and normalizes (clamping ranges,
// coercing "85%" style strings, defaulting the bucket).
func ParseClassification(raw string) (*model.Classification, error) {
	payload := firstJSONObject(stripFences(raw))
	if payload == "" {
		return nil, eris.New("classifier: empty model output")
	}

	var strict wireClassification
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&strict); err == nil && strictValid(strict) {
		c := model.Classification(strict)
		return &c, nil
	}

	var loose map[string]any
	if err := json.Unmarshal([]byte(payload), &loose); err != nil {
		return nil, eris.Wrapf(err, "classifier: output not parseable as JSON: %s", truncateForError(payload))
	}
	return normalize(loose), nil
}

func strictValid(w wireClassification) bool {
	inRange := func(v int64, lo, hi int64) bool { return v >= lo && v <= hi }
	return w.IndustryBucket != "" &&
		inRange(w.MobilityFit, 0, 100) &&
		inRange(w.SecurityFit, 0, 100) &&
		inRange(w.VoipFit, 0, 100) &&
		inRange(w.FleetAttach, 0, 100) &&
		inRange(w.SignalAfterHours, 0, 1) &&
		inRange(w.SignalDispatch, 0, 1) &&
		inRange(w.SignalFieldWork, 0, 1) &&
		len([]rune(w.Reason)) <= maxReasonChars
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

var (
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z]*\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
	firstNum   = regexp.MustCompile(`-?\d+(\.\d+)?`)
)

// firstJSONObject pulls the outermost {...} span when the model wrapped
// the JSON in extra prose.
func firstJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return strings.TrimSpace(s[start : end+1])
}

func normalize(obj map[string]any) *model.Classification {
	bucket := strings.TrimSpace(asString(obj["industry_bucket"]))
	if bucket == "" {
		bucket = "Unknown"
	}
	bucket = truncateRunes(bucket, maxBucketChars)

	reason := strings.TrimSpace(asString(obj["ai_reason"]))
	if reason == "" {
		reason = "No reason provided."
	}
	reason = truncateRunes(reason, maxReasonChars)

	return &model.Classification{
		IndustryBucket:   bucket,
		MobilityFit:      toInt(obj["mobility_fit"], 0, 100),
		SecurityFit:      toInt(obj["security_fit"], 0, 100),
		VoipFit:          toInt(obj["voip_fit"], 0, 100),
		FleetAttach:      toInt(obj["fleet_attach"], 0, 100),
		SignalAfterHours: toInt(obj["signal_after_hours"], 0, 1),
		SignalDispatch:   toInt(obj["signal_dispatch"], 0, 1),
		SignalFieldWork:  toInt(obj["signal_field_work"], 0, 1),
		Reason:           reason,
	}
}

// toInt coerces bools, numbers, and numeric strings ("85%", "85/100")
// into a clamped integer.
func toInt(x any, lo, hi int64) int64 {
	var v int64
	switch t := x.(type) {
	case bool:
		if t {
			v = 1
		}
	case float64:
		v = int64(t + 0.5)
	case string:
		if m := firstNum.FindString(t); m != "" {
			var f float64
			if err := json.Unmarshal([]byte(m), &f); err == nil {
				v = int64(f + 0.5)
			}
		} else {
			v = lo
		}
	default:
		v = lo
	}

	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func asString(x any) string {
	switch t := x.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func truncateForError(s string) string {
	return truncateRunes(s, 500)
}
