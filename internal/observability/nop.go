package observability

type nopLogger struct{}

// NewNopLogger returns a Logger that discards everything. Used in tests.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Info(args ...interface{})                          {}
func (nopLogger) Error(args ...interface{})                         {}
func (nopLogger) Debug(args ...interface{})                         {}
func (nopLogger) Warn(args ...interface{})                          {}
func (nopLogger) WithField(string, interface{}) Logger              { return nopLogger{} }
func (nopLogger) WithFields(map[string]interface{}) Logger          { return nopLogger{} }
