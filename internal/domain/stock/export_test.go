package stock

import "time"

func (l *Ledger) SetNow(now func() time.Time)       { l.now = now }
func (r *Reservations) SetNow(now func() time.Time) { r.now = now }
func (v *Validator) SetNow(now func() time.Time)    { v.now = now }
