package store

import "chatedit/server/internal/model"

func cloneVersion(v model.Version) model.Version {
	if v.ParentID != nil {
		p := *v.ParentID
		v.ParentID = &p
	}
	if v.Parameters != nil {
		v.Parameters = v.Parameters.Clone()
	}
	return v
}

func cloneOperation(op model.Operation) model.Operation {
	if op.Parameters != nil {
		op.Parameters = op.Parameters.Clone()
	}
	if op.Result != nil {
		r := *op.Result
		if r.Metadata != nil {
			meta := make(map[string]any, len(r.Metadata))
			for k, v := range r.Metadata {
				meta[k] = v
			}
			r.Metadata = meta
		}
		op.Result = &r
	}
	return op
}
