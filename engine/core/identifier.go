package core

import "fmt"

// IdentifierPool hands out small integer ids, reusing the lowest released one.
type IdentifierPool struct {
	owners []interface{}
}

func NewIdentifierPool(initial int) *IdentifierPool {
	if initial <= 0 {
		initial = 100
	}
	return &IdentifierPool{
		owners: make([]interface{}, initial),
	}
}

func (p *IdentifierPool) AquireNewID(owner interface{}) uint32 {
	length := uint32(len(p.owners))
	for i := uint32(0); i < length; i++ {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return i
		}
	}

	// No existing free slots, so the id will be length - 1 after the push.
	p.owners = append(p.owners, owner)
	return uint32(len(p.owners)) - 1
}

func (p *IdentifierPool) ReleaseID(id uint32) error {
	length := uint32(len(p.owners))
	if id >= length {
		return fmt.Errorf("identifier release: id '%d' out of range (max=%d). Nothing was done", id, length)
	}
	if p.owners[id] == nil {
		return fmt.Errorf("identifier release: id '%d' is not in use", id)
	}
	p.owners[id] = nil
	return nil
}

func (p *IdentifierPool) Owner(id uint32) interface{} {
	if id >= uint32(len(p.owners)) {
		return nil
	}
	return p.owners[id]
}

func (p *IdentifierPool) InUse() int {
	n := 0
	for _, o := range p.owners {
		if o != nil {
			n++
		}
	}
	return n
}
