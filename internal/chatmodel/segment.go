package chatmodel

// SegmentKind tags the union held by Segment.
type SegmentKind string

const (
	SegmentReasoning      SegmentKind = "reasoning"
	SegmentMessage        SegmentKind = "message"
	SegmentToolInvocation SegmentKind = "tool_invocation"
	SegmentToolOutcome    SegmentKind = "tool_outcome"
)

// Segment is the smallest persistable unit within an assistant turn: a
// contiguous run of reasoning, a message, a tool invocation, or a tool
// outcome. Exactly one of the typed fields is populated, selected by Kind.
type Segment struct {
	Kind SegmentKind `json:"kind"`

	// Reasoning / Message fields.
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`

	// ToolInvocation fields.
	ToolName      string `json:"tool_name,omitempty"`
	ArgumentsJSON string `json:"arguments_json,omitempty"`

	// ToolOutcome fields.
	InvocationID string `json:"invocation_id,omitempty"`
	ResultText   string `json:"result_text,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
}

// NewReasoningSegment builds a Reasoning segment.
func NewReasoningSegment(id, text string) Segment {
	return Segment{Kind: SegmentReasoning, ID: id, Text: text}
}

// NewMessageSegment builds a Message segment.
func NewMessageSegment(id, text string) Segment {
	return Segment{Kind: SegmentMessage, ID: id, Text: text}
}

// NewToolInvocationSegment builds a ToolInvocation segment.
func NewToolInvocationSegment(id, toolName, argumentsJSON string) Segment {
	return Segment{Kind: SegmentToolInvocation, ID: id, ToolName: toolName, ArgumentsJSON: argumentsJSON}
}

// NewToolOutcomeSegment builds a ToolOutcome segment paired to invocationID.
func NewToolOutcomeSegment(invocationID, resultText string, isError bool, durationMs int64) Segment {
	return Segment{
		Kind:         SegmentToolOutcome,
		InvocationID: invocationID,
		ResultText:   resultText,
		IsError:      isError,
		DurationMs:   durationMs,
	}
}

// Turn is one exchange attributable to a single role. Assistant turns own an
// ordered sequence of Segments; it is immutable once finalised.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Segments  []Segment `json:"segments,omitempty"`
	CreatedAt int64     `json:"created_at"`
}

// Summary is a compressed representation of earlier conversation content.
type Summary struct {
	Text                string `json:"text"`
	GeneratedAt         int64  `json:"generated_at"`
	ReplacedTurnsCount  int    `json:"replaced_turns_count"`
	TokensAtGeneration  int    `json:"tokens_at_generation"`
}

// Conversation owns an ordered sequence of Turns and optionally a Summary.
type Conversation struct {
	ID        string   `json:"id"`
	Turns     []Turn   `json:"turns,omitempty"`
	Summary   *Summary `json:"summary,omitempty"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}
