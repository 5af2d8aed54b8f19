// Package fusion combines the classifier and OCR validation signals into a
// single verdict.
package fusion

import (
	"math"

	"github.com/example/idcheck/internal/classifier"
	"github.com/example/idcheck/internal/fields"
	"github.com/example/idcheck/internal/institution"
)

// Verdict labels.
const (
	LabelGenuine    = "genuine"
	LabelFake       = "fake"
	LabelSuspicious = "suspicious"
)

// Verdict statuses. StatusError is reserved for undecodable input.
const (
	StatusApproved     = "approved"
	StatusRejected     = "rejected"
	StatusManualReview = "manual_review"
	StatusError        = "error"
)

// Reasons attached to verdicts.
const (
	ReasonNotAnID       = "not a valid ID card"
	ReasonLowConfidence = "template mismatch and low OCR confidence"
	ReasonHighScore     = "high confidence from image and OCR validation"
	ReasonModerate      = "moderate score or low OCR confidence"
	ReasonNoFace        = "face photo not confidently detected — needs review"
	ReasonInvalidImage  = "invalid image data"
)

// Scoring policy.
const (
	ImageWeight = 0.7
	OCRWeight   = 0.3

	ApproveAbove = 0.8
	RejectBelow  = 0.6

	// ReportedThreshold is echoed to callers with every verdict.
	ReportedThreshold = 0.70
)

// Record is the OCR validation outcome for one card. It only exists when
// the capture passed the OCR quality gate.
type Record struct {
	Fields         fields.Extraction `json:"fields"`
	Institution    institution.Match `json:"institution"`
	FacePhotoFound bool              `json:"face_photo_found"`
	// OCRConfidence is normalized to [0,1].
	OCRConfidence float64 `json:"ocr_confidence"`
	UserIDMatch   bool    `json:"user_id_match"`
}

// Verdict is the decision returned to callers.
type Verdict struct {
	Label     string  `json:"label"`
	Status    string  `json:"status"`
	Score     float64 `json:"validation_score"`
	Reason    string  `json:"reason"`
	Threshold float64 `json:"threshold"`
	IsFake    bool    `json:"is_fake"`
}

// Score is the rounded weighted combination of both confidences.
func Score(genuineConfidence, ocrConfidence float64) float64 {
	s := ImageWeight*clamp01(genuineConfidence) + OCRWeight*clamp01(ocrConfidence)
	return math.Round(s*1e4) / 1e4
}

// Decide applies the fusion policy. A nil classification means the
// classifier failed; a nil record means OCR failed or was gated out. Both
// absent signals count as zero confidence and no detected face.
func Decide(classification *classifier.Result, record *Record) Verdict {
	if classification != nil && classification.Label == classifier.NonID {
		return verdict(LabelFake, StatusRejected, 0, ReasonNotAnID)
	}

	var genuine, ocrConf float64
	if classification != nil {
		genuine = classification.GenuineConfidence()
	}
	faceFound := false
	if record != nil {
		ocrConf = clamp01(record.OCRConfidence)
		faceFound = record.FacePhotoFound
	}

	score := Score(genuine, ocrConf)
	var v Verdict
	switch {
	case ocrConf == 0 || score < RejectBelow:
		v = verdict(LabelFake, StatusRejected, score, ReasonLowConfidence)
	case score > ApproveAbove:
		v = verdict(LabelGenuine, StatusApproved, score, ReasonHighScore)
	default:
		v = verdict(LabelSuspicious, StatusManualReview, score, ReasonModerate)
	}
	return ApplyFaceOverride(v, faceFound)
}

// ApplyFaceOverride sends any non-fake verdict without a detected face to
// manual review. Applying it more than once changes nothing further.
func ApplyFaceOverride(v Verdict, faceFound bool) Verdict {
	if faceFound || v.Label == LabelFake {
		return v
	}
	v.Label = LabelSuspicious
	v.Status = StatusManualReview
	v.Reason = ReasonNoFace
	v.IsFake = false
	return v
}

// InvalidImage is the terminal verdict for input that could not be decoded.
func InvalidImage() Verdict {
	return verdict(LabelFake, StatusError, 0, ReasonInvalidImage)
}

func verdict(label, status string, score float64, reason string) Verdict {
	return Verdict{
		Label:     label,
		Status:    status,
		Score:     score,
		Reason:    reason,
		Threshold: ReportedThreshold,
		IsFake:    label == LabelFake,
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
