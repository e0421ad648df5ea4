package chat

// personaPreamble is prepended as a system turn to every completion call.
// It is never stored in the transcript.
const personaPreamble = "You are Solace, a warm and supportive companion. " +
	"Listen closely, acknowledge feelings without judgment, and reply in a few caring sentences. " +
	"You are not a therapist and you do not give medical advice; when a conversation calls for it, " +
	"gently suggest talking to a professional."

// stopSequences end generation at a turn boundary for Llama-family models.
var stopSequences = []string{"</s>", "<|end|>", "<|im_end|>", "User:", "Assistant:"}

// Generation caps per deployment variant. The compact variant keeps replies
// short for constrained devices; full allows complete answers.
const (
	maxTokensCompact = 100
	maxTokensFull    = 512
)

// VariantCompact and VariantFull name the two deployment variants.
const (
	VariantCompact = "compact"
	VariantFull    = "full"
)

func maxTokensFor(variant string) int {
	if variant == VariantCompact {
		return maxTokensCompact
	}
	return maxTokensFull
}

// QuickReplies are suggestion chips UI surfaces offer when the input is
// empty.
var QuickReplies = []string{
	"I'm feeling stressed",
	"I can't sleep",
	"Tell me something calming",
	"Help me sort my thoughts",
}
