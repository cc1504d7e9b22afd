// Package factory instantiates pluggable modules (metrics sinks, monitors)
// from configuration. A module is described by a type name and a raw settings
// map; the registered factory decodes the map into its own struct and returns
// the implementation.
//
//	reg := factory.NewRegistry[metrics.Sink]()
//	_ = reg.Register("influx", func(conf map[string]any) (metrics.Sink, error) {
//	    var c InfluxConfig
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return NewInfluxSink(c), nil
//	})
//	sink, err := reg.Create(factory.ModuleConfig{Type: "influx", Conf: raw})
package factory
