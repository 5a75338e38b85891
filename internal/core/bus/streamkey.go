package bus

// StreamKey uniquely identifies a stream by application and stream name.
type StreamKey struct {
	App  string
	Name string
}

// String returns the key as "app/name".
func (k StreamKey) String() string {
	return k.App + "/" + k.Name
}

// NewStreamKey creates a new StreamKey from app and name.
func NewStreamKey(app, name string) StreamKey {
	return StreamKey{App: app, Name: name}
}
