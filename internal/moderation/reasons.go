package moderation

// Rejection reason codes accepted by RejectAd and the bulk reject surface.
// The set is closed: unknown codes are rejected before any transaction.
const (
	ReasonSpam          = "SPAM"
	ReasonProhibited    = "PROHIBITED_ITEM"
	ReasonMisleading    = "MISLEADING"
	ReasonDuplicate     = "DUPLICATE"
	ReasonWrongCategory = "WRONG_CATEGORY"
	ReasonOther         = "OTHER"
)

// adRejectReasons maps each reason code to the text shown to the ad owner.
var adRejectReasons = map[string]string{
	ReasonSpam:          "the ad was identified as spam",
	ReasonProhibited:    "the advertised item is not allowed on the platform",
	ReasonMisleading:    "the ad contains misleading information",
	ReasonDuplicate:     "the ad duplicates another active listing",
	ReasonWrongCategory: "the ad was posted in the wrong category",
	ReasonOther:         "the ad violates the platform rules",
}

// Verification rejection codes.
const (
	VerifyReasonUnreadable = "DOCUMENT_UNREADABLE"
	VerifyReasonExpired    = "DOCUMENT_EXPIRED"
	VerifyReasonMismatch   = "DATA_MISMATCH"
	VerifyReasonSuspected  = "SUSPECTED_FRAUD"
	VerifyReasonOther      = "OTHER"
)

// verificationRejectReasons maps verification rejection codes to the text
// shown to the requesting user.
var verificationRejectReasons = map[string]string{
	VerifyReasonUnreadable: "the submitted document could not be read",
	VerifyReasonExpired:    "the submitted document is expired",
	VerifyReasonMismatch:   "the document does not match your account details",
	VerifyReasonSuspected:  "the submission could not be accepted",
	VerifyReasonOther:      "the verification request was declined",
}

// HumanizeAdReason returns the owner-facing text for a reason code.
func HumanizeAdReason(code string) string {
	if text, ok := adRejectReasons[code]; ok {
		return text
	}
	return adRejectReasons[ReasonOther]
}

// HumanizeVerificationReason returns the user-facing text for a
// verification rejection code.
func HumanizeVerificationReason(code string) string {
	if text, ok := verificationRejectReasons[code]; ok {
		return text
	}
	return verificationRejectReasons[VerifyReasonOther]
}

func validAdReason(code string) bool {
	_, ok := adRejectReasons[code]
	return ok
}

func validVerificationReason(code string) bool {
	if code == "" {
		return true // rejection code is optional for verification
	}
	_, ok := verificationRejectReasons[code]
	return ok
}
