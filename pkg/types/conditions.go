package types

// =============================================================================
// CONDITION FLAGS
// =============================================================================

// AlertKind identifies one of the six independently-tracked failure
// conditions a task can be in.
type AlertKind string

const (
	KindStatusCode   AlertKind = "status_code"
	KindTimeout      AlertKind = "timeout"
	KindContentMatch AlertKind = "content_match"
	KindJSONPath     AlertKind = "json_path"
	KindDelay        AlertKind = "delay"
	KindSSLExpiry    AlertKind = "ssl_expiry"
)

// AllKinds lists the six alert kinds in stable evaluation order.
var AllKinds = []AlertKind{
	KindStatusCode,
	KindTimeout,
	KindContentMatch,
	KindJSONPath,
	KindDelay,
	KindSSLExpiry,
}

// DisplayName returns the original system's Chinese display name for an
// alert kind, used in notification bodies and the JSON alert log.
func (k AlertKind) DisplayName() string {
	switch k {
	case KindStatusCode:
		return "状态码异常"
	case KindTimeout:
		return "请求超时"
	case KindContentMatch:
		return "内容校验失败"
	case KindJSONPath:
		return "JSON字段校验失败"
	case KindDelay:
		return "响应延迟"
	case KindSSLExpiry:
		return "证书即将过期"
	default:
		return string(k)
	}
}

// ConditionFlags is the pure output of the Evaluator: one boolean per alert
// kind plus provenance bits describing why a flag could or could not be
// computed.
type ConditionFlags struct {
	CodeFail      bool
	TimeoutFail   bool
	SubstringFail bool
	JSONFail      bool
	DelayFail     bool
	SSLFail       bool

	// Provenance bits — these explain WHY a flag is false (e.g. SubstringFail
	// is false because there's no response body to check, not because the
	// body matched).
	HasHTTPResponse bool
	JSONParseable   bool
	JSONPathMatched bool

	RespTimeMs int64
}

// Failing reports whether the named kind's flag is set.
func (f ConditionFlags) Failing(k AlertKind) bool {
	switch k {
	case KindStatusCode:
		return f.CodeFail
	case KindTimeout:
		return f.TimeoutFail
	case KindContentMatch:
		return f.SubstringFail
	case KindJSONPath:
		return f.JSONFail
	case KindDelay:
		return f.DelayFail
	case KindSSLExpiry:
		return f.SSLFail
	default:
		return false
	}
}
