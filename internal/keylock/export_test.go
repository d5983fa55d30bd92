package keylock

// Len exposes the number of live entries for tests.
func (l *Locks) Len() int {
	return l.entryCount()
}
