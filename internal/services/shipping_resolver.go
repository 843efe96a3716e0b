package services

import "sync"

// ShippingResolver tracks the selected shipping option for one checkout.
type ShippingResolver struct {
	mu       sync.Mutex
	options  []ShippingOption
	selected *ShippingOption
}

// NewShippingResolver returns a resolver with no options.
func NewShippingResolver() *ShippingResolver {
	return &ShippingResolver{}
}

// SetOptions replaces the option list. The current selection survives when its
// id is still offered (taking the new price); otherwise the first option is
// selected. An empty list clears the selection.
func (r *ShippingResolver) SetOptions(options []ShippingOption) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.options = append([]ShippingOption(nil), options...)
	if len(r.options) == 0 {
		r.selected = nil
		return
	}
	if r.selected != nil {
		if opt, ok := r.find(r.selected.ID); ok {
			r.selected = &opt
			return
		}
	}
	first := r.options[0]
	r.selected = &first
}

// Select picks the option with id. An unknown id keeps the previous selection
// and reports false.
func (r *ShippingResolver) Select(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	opt, ok := r.find(id)
	if !ok {
		return false
	}
	r.selected = &opt
	return true
}

// Selected returns the selected option, if any.
func (r *ShippingResolver) Selected() (ShippingOption, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.selected == nil {
		return ShippingOption{}, false
	}
	return *r.selected, true
}

// Cost is the selected option's price, or zero without a selection.
func (r *ShippingResolver) Cost() Money {
	opt, ok := r.Selected()
	if !ok {
		return 0
	}
	return opt.Price
}

// Options returns a copy of the current option list.
func (r *ShippingResolver) Options() []ShippingOption {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ShippingOption(nil), r.options...)
}

func (r *ShippingResolver) find(id string) (ShippingOption, bool) {
	for _, opt := range r.options {
		if opt.ID == id {
			return opt, true
		}
	}
	return ShippingOption{}, false
}
