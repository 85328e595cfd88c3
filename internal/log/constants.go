package log

const (
	Args      = "args"
	Axis      = "axis"
	Canonical = "canonical"
	Cmd       = "cmd"
	Cycle     = "cycle"
	Dir       = "dir"
	Duration  = "duration"
	Error     = "error"
	Handler   = "handler"
	Kind      = "kind"
	Op        = "op"
	Path      = "path"
	Pattern   = "pattern"
	Pid       = "pid"
	Plugin    = "plugin"
	Recursive = "recursive"
	Signal    = "signal"
	State     = "state"
	Unit      = "unit"
)
