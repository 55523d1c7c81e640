package schedule

// OverlapResult lists the existing entries a candidate interval conflicts with.
type OverlapResult[E Entry] struct {
	HasOverlap bool `json:"hasOverlap"`
	Conflicts  []E  `json:"conflicts"`
}

// CheckOverlap returns every entry in existing that overlaps candidate, in
// input order.
func CheckOverlap[E Entry](candidate Interval, existing []E) OverlapResult[E] {
	conflicts := []E{}
	for _, e := range existing {
		if Overlaps(candidate, e.Span()) {
			conflicts = append(conflicts, e)
		}
	}
	return OverlapResult[E]{HasOverlap: len(conflicts) > 0, Conflicts: conflicts}
}
