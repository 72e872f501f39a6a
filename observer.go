package tlsctx

// Observer receives log output from a Store.
type Observer interface {
	Logf(format string, args ...any)
}

type nopObserver struct{}

func (nopObserver) Logf(string, ...any) {}
