package metric

// Item - one independent metric module exposes one Item.
type Item interface {
	JSONString() string
}

type mockItem struct {
	name string
}

func (mock *mockItem) JSONString() string {
	return mock.name
}
