package models

import (
	"database/sql/driver"
	"fmt"
)

// Role is the fixed role tag of a profile
type Role string

const (
	RoleCustomer    Role = "customer"
	RoleMerchant    Role = "merchant"
	RoleBeneficiary Role = "beneficiary"
	RoleCollector   Role = "collector"
	RoleAdmin       Role = "admin"
	RoleAssociation Role = "association"
)

// ParseRole maps a stored role tag onto the closed set of roles.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCustomer, RoleMerchant, RoleBeneficiary, RoleCollector, RoleAdmin, RoleAssociation:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Scan implements sql.Scanner so profile rows carrying an unknown role tag fail to load.
func (r *Role) Scan(src interface{}) error {
	var tag string
	switch v := src.(type) {
	case string:
		tag = v
	case []byte:
		tag = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Role", src)
	}
	role, err := ParseRole(tag)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Value implements driver.Valuer.
func (r Role) Value() (driver.Value, error) {
	return string(r), nil
}

// CanClaimBaskets reports whether a profile with this role may redeem suspended baskets.
func (r Role) CanClaimBaskets() bool {
	switch r {
	case RoleBeneficiary:
		return true
	case RoleCustomer, RoleMerchant, RoleCollector, RoleAdmin, RoleAssociation:
		return false
	default:
		return false
	}
}
