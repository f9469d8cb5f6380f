package obs

import (
	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// StartProfiler pushes continuous profiles to a pyroscope server. The returned
// func stops profiling.
func StartProfiler(application, serverAddress string, tags map[string]string) (func(), error) {
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: application,
		ServerAddress:   serverAddress,
		Tags:            tags,
		Logger:          profilerLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "start pyroscope").With("server", serverAddress)
	}
	return func() {
		if err := profiler.Stop(); err != nil {
			logs.Errorf("stop pyroscope, err: %+v", err)
		}
	}, nil
}

// profilerLogger only surfaces pyroscope errors.
type profilerLogger struct{}

func (profilerLogger) Infof(string, ...interface{})  {}
func (profilerLogger) Debugf(string, ...interface{}) {}

func (profilerLogger) Errorf(format string, args ...interface{}) {
	logs.Errorf("pyroscope: "+format, args...)
}
