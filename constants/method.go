package constants

// ProcessingMethod is written to staged document metadata on completion.
type ProcessingMethod string

const (
	MethodOCRPDF   ProcessingMethod = "ocr_pdf"   // structured OCR over the PDF
	MethodLLMPDF   ProcessingMethod = "llm_pdf"   // LLM text fallback over pre-extracted PDF text
	MethodLLMImage ProcessingMethod = "llm_image" // LLM multimodal over the image bytes
	MethodLLMText  ProcessingMethod = "llm_text"  // LLM text over HTML/plain content
)

// Metadata keys owned by the pipeline. Other writers must not set them.
const (
	MetaProcessingMethod   = "processing_method"
	MetaOCRSuccess         = "ocr_success"
	MetaResultsCount       = "results_count"
	MetaErrorType          = "error_type"
	MetaFailedAtAttempt    = "failed_at_attempt"
	MetaLastErrorTimestamp = "last_error_timestamp"
)

// ReservedMetadataKeys lists the keys stripped from caller-supplied metadata.
var ReservedMetadataKeys = []string{
	MetaProcessingMethod,
	MetaOCRSuccess,
	MetaResultsCount,
	MetaErrorType,
	MetaFailedAtAttempt,
	MetaLastErrorTimestamp,
}

// DefaultCurrency is the currency assumed when an extraction omits one.
const DefaultCurrency = "INR"

// ErrorKind classifies a processing failure in staged document metadata.
type ErrorKind string

const (
	ErrKindValidation     ErrorKind = "validation_error"
	ErrKindBackendTimeout ErrorKind = "backend_timeout"
	ErrKindBackend        ErrorKind = "backend_error"
	ErrKindNoValidRecords ErrorKind = "no_valid_records"
	ErrKindStorage        ErrorKind = "storage_error"
	ErrKindLeaseExpired   ErrorKind = "lease_expired"
)
