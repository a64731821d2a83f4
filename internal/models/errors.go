package models

// ErrorKind classifies failures the pipeline can encounter.
type ErrorKind string

const (
	KindFetch            ErrorKind = "fetch_error"
	KindParse            ErrorKind = "parse_error"
	KindCountMismatch    ErrorKind = "count_mismatch"
	KindEvaluation       ErrorKind = "evaluation_error"
	KindPublishAuth      ErrorKind = "publish_auth"
	KindPublishPerm      ErrorKind = "publish_permission"
	KindPublishForbidden ErrorKind = "publish_forbidden"
	KindPublishDuplicate ErrorKind = "publish_duplicate"
	KindPublishTooLarge  ErrorKind = "publish_too_large"
	KindPublishUnknown   ErrorKind = "publish_unknown"
	KindSchedulerCrash   ErrorKind = "scheduler_crash"
)

// IsPublish reports whether the kind belongs to the publish family.
func (k ErrorKind) IsPublish() bool {
	switch k {
	case KindPublishAuth, KindPublishPerm, KindPublishForbidden,
		KindPublishDuplicate, KindPublishTooLarge, KindPublishUnknown:
		return true
	}
	return false
}
