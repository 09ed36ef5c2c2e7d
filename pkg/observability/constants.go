package observability

// Span and attribute names shared by the traced components.
const (
	AttrServiceName     = "service.name"
	AttrServiceVersion  = "service.version"
	AttrAgentName       = "agent.name"
	AttrSessionID       = "session.id"
	AttrTaskID          = "task.id"
	AttrIntentKind      = "intent.kind"
	AttrToolName        = "tool.name"
	AttrToolServer      = "tool.server"
	AttrToolStatus      = "tool.status"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrErrorKind       = "error.kind"
	AttrStatusCode      = "http.status_code"

	SpanChat            = "polis.domain.chat"
	SpanIntentAnalyze   = "polis.domain.intent"
	SpanSynthesis       = "polis.domain.synthesis"
	SpanTaskHandle      = "polis.technical.task"
	SpanPlanBuild       = "polis.technical.plan"
	SpanToolCall        = "polis.tool.call"
	SpanLLMCall         = "polis.llm.call"
	SpanA2ASend         = "polis.a2a.send"
	SpanRegistryRefresh = "polis.registry.refresh"

	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"

	DefaultServiceName  = "polis"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
