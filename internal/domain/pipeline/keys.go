package pipeline

// Key names a value in the pipeline context.
type Key string

// Well-known context keys written by the built-in components.
const (
	KeyQuestion      Key = "question"
	KeyDocuments     Key = "documents"
	KeyRetrieval     Key = "retrieval"
	KeySchemaSubset  Key = "schema_subset"
	KeySchemaText    Key = "schema_text"
	KeyPrompt        Key = "prompt"
	KeyCandidate     Key = "candidate_query"
	KeyAttempts      Key = "attempts"
	KeyVerdict       Key = "verdict"
	KeyResults       Key = "results"
	KeyFormatted     Key = "formatted_response"
	KeyExecutionTime Key = "execution_time_ms"
)
