package entropy

// Sequence replays fixed draws. Uniform and normal draws come from separate
// queues; each queue wraps around when exhausted, and an empty queue yields 0.
type Sequence struct {
	uniforms []float64
	normals  []float64
	ui, ni   int
}

// NewSequence returns a scripted source.
func NewSequence(uniforms, normals []float64) *Sequence {
	return &Sequence{uniforms: uniforms, normals: normals}
}

// Constant returns a source whose uniform draws are always u and whose normal
// draws are always 0.
func Constant(u float64) *Sequence {
	return NewSequence([]float64{u}, nil)
}

// Float64 implements Source.
func (s *Sequence) Float64() float64 {
	if len(s.uniforms) == 0 {
		return 0
	}
	v := s.uniforms[s.ui%len(s.uniforms)]
	s.ui++
	return v
}

// NormFloat64 implements Source.
func (s *Sequence) NormFloat64() float64 {
	if len(s.normals) == 0 {
		return 0
	}
	v := s.normals[s.ni%len(s.normals)]
	s.ni++
	return v
}

// Draws reports how many uniform and normal values have been consumed.
func (s *Sequence) Draws() (uniform, normal int) {
	return s.ui, s.ni
}
