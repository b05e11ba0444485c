package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ EventQueue      = (*MemoryEventQueue)(nil)
	_ DeadLetterStore = (*MemoryDeadLetterStore)(nil)
	_ CursorStore     = (*MemoryCursorStore)(nil)
	_ EventHandler    = EventHandlerFunc(nil)
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ RawConfigLoader = StaticConfigLoader{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
