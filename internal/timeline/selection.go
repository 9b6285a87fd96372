package timeline

// Selection tracks which attachment is expanded. The zero value is Unselected.
type Selection struct {
	id string
}

// Click toggles id: same id clears, another id switches
func (s *Selection) Click(id string) {
	if s.id == id {
		s.id = ""
		return
	}
	s.id = id
}

// ClickOutside clears the selection
func (s *Selection) ClickOutside() {
	s.id = ""
}

// Selected returns the selected message id
func (s Selection) Selected() (string, bool) {
	return s.id, s.id != ""
}
