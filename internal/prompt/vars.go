package prompt

type Key string

const (
	KeyTranslate      Key = "translate"
	KeyPolish         Key = "polish"
	KeyQueryTransform Key = "query_transform"
	KeyChat           Key = "chat"
	KeySynthesis      Key = "synthesis"
	KeyNote           Key = "note"
)

// Vars is the typed variable set of one prompt key.
type Vars interface {
	PromptKey() Key
}

type TranslateVars struct {
	Text       string `validate:"required"`
	TargetLang string `validate:"required"`
	SourceLang string
}

func (TranslateVars) PromptKey() Key { return KeyTranslate }

type PolishVars struct {
	Text  string `validate:"required"`
	Style string `validate:"required"`
}

func (PolishVars) PromptKey() Key { return KeyPolish }

type Turn struct {
	Role    string `validate:"required,oneof=system user assistant"`
	Content string
}

type QueryTransformVars struct {
	History []Turn `validate:"dive"`
	Input   string `validate:"required"`
}

func (QueryTransformVars) PromptKey() Key { return KeyQueryTransform }

type ChatVars struct {
	Lang string
}

func (ChatVars) PromptKey() Key { return KeyChat }

type ContextItem struct {
	Index   int
	Title   string
	Snippet string `validate:"required"`
}

type SynthesisVars struct {
	Question string        `validate:"required"`
	Context  []ContextItem `validate:"dive"`
}

func (SynthesisVars) PromptKey() Key { return KeySynthesis }

type NoteVars struct {
	Question string        `validate:"required"`
	Answer   string        `validate:"required"`
	Context  []ContextItem `validate:"dive"`
}

func (NoteVars) PromptKey() Key { return KeyNote }
