package pipeline

// Builder assembles processors in pre, core, post order.
type Builder struct {
	pre  []FrameProcessor
	core []FrameProcessor
	post []FrameProcessor
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) WithProcessor(p FrameProcessor) *Builder {
	if p != nil {
		b.core = append(b.core, p)
	}
	return b
}

// WithNormalizer adds a text rewrite stage that runs before synthesis.
func (b *Builder) WithNormalizer(p FrameProcessor) *Builder {
	if p != nil {
		b.pre = append(b.pre, p)
	}
	return b
}

func (b *Builder) WithTTS(p FrameProcessor) *Builder {
	return b.WithProcessor(p)
}

// WithSerializer adds a stage that runs after synthesis.
func (b *Builder) WithSerializer(p FrameProcessor) *Builder {
	if p != nil {
		b.post = append(b.post, p)
	}
	return b
}

func (b *Builder) Processors() []FrameProcessor {
	out := make([]FrameProcessor, 0, len(b.pre)+len(b.core)+len(b.post))
	out = append(out, b.pre...)
	out = append(out, b.core...)
	return append(out, b.post...)
}

func (b *Builder) Build(cfg Config) Orchestrator {
	return NewWithPipelineConfig(PipelineConfig{
		Config:     cfg,
		Processors: b.Processors(),
	})
}
