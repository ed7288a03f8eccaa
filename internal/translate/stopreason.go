package translate

// MapFinishReason applies the §1.7.2 finish_reason -> stop_reason table,
// shared by the non-streaming and streaming translators. A finish reason
// never seen, or the empty string, maps to "end_turn".
func MapFinishReason(finishReason string) string {
	switch finishReason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "end_turn"
	default:
		return "end_turn"
	}
}
