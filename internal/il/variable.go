package il

// Variable is a synthetic variable standing in for one stack cell lifetime
// or one independent lifetime of a declared local or parameter.
type Variable struct {
	Name          string
	Type          *TypeDef
	IsGenerated   bool
	IsPinned      bool
	IsThis        bool
	OriginalLocal *LocalDef
	OriginalParam *ParamDef
}

// IsParameter reports whether the variable is a declared parameter or this.
func (v *Variable) IsParameter() bool {
	return v.OriginalParam != nil || v.IsThis
}

func (v *Variable) String() string {
	if v == nil {
		return "<nil>"
	}
	return v.Name
}
