package domain

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindDownload          ErrorKind = "download_failed"
	ErrorKindDecode            ErrorKind = "decode_failed"
	ErrorKindUpscale           ErrorKind = "upscale_failed"
	ErrorKindDependencyMissing ErrorKind = "dependency_missing"
	ErrorKindNormalize         ErrorKind = "normalize_failed"
	ErrorKindEncode            ErrorKind = "encode_failed"
	ErrorKindMetadata          ErrorKind = "metadata_failed"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindConfigInvalid     ErrorKind = "config_invalid"
	ErrorKindNotAdmitted       ErrorKind = "not_admitted"
)

// ErrorKindForStage is the failure kind reported when a stage fails for a non-specific reason.
func ErrorKindForStage(s Stage) ErrorKind {
	switch s {
	case StageDownloading:
		return ErrorKindDownload
	case StageDecoding:
		return ErrorKindDecode
	case StageUpscaling:
		return ErrorKindUpscale
	case StageNormalizing:
		return ErrorKindNormalize
	case StageEncoding:
		return ErrorKindEncode
	case StageEmbeddingMetadata:
		return ErrorKindMetadata
	default:
		return ErrorKindNone
	}
}
