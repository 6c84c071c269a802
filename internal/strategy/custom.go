package strategy

// Loader resolves a module path to a user-supplied Strategy implementation.
// The concrete loader (plugin loading, subprocess RPC, etc.) is supplied by
// the embedding application; Custom only validates and delegates.
type Loader func(path string) (any, error)

// Custom loads a user-supplied strategy by path and delegates every method
// call to it, surfacing load/shape failures as the custom-strategy error
// family instead of panicking the orchestrator.
type Custom struct {
	load     Loader
	path     string
	delegate Strategy
}

// NewCustom constructs a Custom strategy that will use load to resolve
// modules passed to Initialize's "path" key.
func NewCustom(load Loader) *Custom {
	return &Custom{load: load}
}

func (c *Custom) Initialize(config map[string]any) error {
	path, _ := config["path"].(string)
	if path == "" {
		return &CustomStrategyNotFoundError{Path: path}
	}
	c.path = path

	raw, err := c.load(path)
	if err != nil {
		return &CustomStrategyLoadError{Path: path, Err: err}
	}
	if raw == nil {
		return &CustomStrategyNotFoundError{Path: path}
	}

	delegate, ok := raw.(Strategy)
	if !ok {
		return &CustomStrategyInvalidError{Path: path, Detail: "module does not implement the strategy capability set"}
	}
	c.delegate = delegate

	delegateConfig, _ := config["delegateConfig"].(map[string]any)
	return c.delegate.Initialize(delegateConfig)
}

func (c *Custom) ShouldContinue(ctx IterationContext) Decision { return c.delegate.ShouldContinue(ctx) }
func (c *Custom) OnLoopStart()                                 { c.delegate.OnLoopStart() }
func (c *Custom) OnIterationStart(iteration int)               { c.delegate.OnIterationStart(iteration) }
func (c *Custom) OnIterationEnd(d Decision)                     { c.delegate.OnIterationEnd(d) }
func (c *Custom) OnLoopEnd(d Decision)                          { c.delegate.OnLoopEnd(d) }
func (c *Custom) GetProgress(ctx IterationContext) Progress     { return c.delegate.GetProgress(ctx) }
func (c *Custom) DetectLoop(ctx IterationContext) LoopDetection { return c.delegate.DetectLoop(ctx) }
func (c *Custom) Reset()                                        { c.delegate.Reset() }
