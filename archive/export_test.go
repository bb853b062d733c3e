package archive

// SetMarshal replaces the encoder of the archiver
func SetMarshal(a *Archiver, marshal func(any) ([]byte, error)) {
	a.marshal = marshal
}
