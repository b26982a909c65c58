package importer

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const socialPrefix = FieldSocialLinks + "."

// Mapper turns raw rows into candidates for one import. It holds no
// per-row state and is safe to reuse across rows.
type Mapper struct {
	entity  Entity
	mapping FieldMapping
	norm    Normalizer
}

// NewMapper creates a Mapper for entity using mapping.
func NewMapper(entity Entity, mapping FieldMapping, norm Normalizer) *Mapper {
	return &Mapper{entity: entity, mapping: mapping, norm: norm}
}

// MapRow maps one row. It returns nil when the row fails a required check;
// every problem found is appended to errs. MapRow never panics.
func (m *Mapper) MapRow(row RawRow, rowNum int, errs *[]ImportError) (c *Candidate) {
	defer func() {
		if r := recover(); r != nil {
			*errs = append(*errs, ImportError{Row: rowNum, Message: fmt.Sprintf("unexpected error mapping row: %v", r)})
			c = nil
		}
	}()

	switch m.entity {
	case EntityContacts:
		return m.mapContact(row, rowNum, errs)
	case EntityDeals:
		return m.mapDeal(row, rowNum, errs)
	default:
		*errs = append(*errs, ImportError{Row: rowNum, Message: fmt.Sprintf("unsupported entity %q", m.entity)})
		return nil
	}
}

// value returns the cleaned cell for field, "" when unmapped or blank.
func (m *Mapper) value(row RawRow, field string) string {
	col := m.mapping.Column(field)
	if col == "" {
		return ""
	}
	return row.Value(col)
}

func (m *Mapper) mapContact(row RawRow, rowNum int, errs *[]ImportError) *Candidate {
	f := &ContactFields{}
	failed := false

	if m.mapping.Has(FieldFullName) {
		f.FullName = m.value(row, FieldFullName)
		if f.FullName == "" {
			*errs = append(*errs, ImportError{Row: rowNum, Field: FieldFullName, Message: "full name is required"})
			failed = true
		}
	}

	rawEmail := m.value(row, FieldEmail)
	rawPhone := m.value(row, FieldPhone)
	var fieldErrs []ImportError

	if rawEmail != "" {
		email, err := m.norm.Email(rawEmail)
		if err != nil {
			fieldErrs = append(fieldErrs, ImportError{Row: rowNum, Field: FieldEmail, Value: rawEmail, Message: "invalid email: " + err.Error()})
		} else {
			f.Email = email
		}
	}
	if rawPhone != "" {
		phone, err := m.norm.Phone(rawPhone)
		if err != nil {
			fieldErrs = append(fieldErrs, ImportError{Row: rowNum, Field: FieldPhone, Value: rawPhone, Message: "invalid phone: " + err.Error()})
		} else {
			f.Phone = phone
		}
	}
	*errs = append(*errs, fieldErrs...)

	if f.Email == "" && f.Phone == "" {
		if rawEmail == "" && rawPhone == "" {
			*errs = append(*errs, ImportError{Row: rowNum, Field: FieldEmail, Message: "email or phone is required"})
		}
		failed = true
	}
	if failed {
		return nil
	}

	f.Company = m.value(row, FieldCompany)
	f.Position = m.value(row, FieldPosition)
	f.Notes = m.value(row, FieldNotes)
	f.Source = m.value(row, FieldSource)
	f.Tags = SplitMulti(m.value(row, FieldTags))
	f.Directions = SplitMulti(m.value(row, FieldDirections))
	f.ContactMethods = SplitMulti(m.value(row, FieldContactMethods))

	if raw := m.value(row, FieldBirthday); raw != "" {
		if d, ok := ParseDate(raw); ok {
			f.Birthday = &d
		} else {
			*errs = append(*errs, ImportError{Row: rowNum, Field: FieldBirthday, Value: raw, Message: "unrecognized date format"})
		}
	}

	if group := m.socialGroup(row); len(group) > 0 {
		links, linkErrs := m.norm.SocialLinks(group)
		for _, network := range sortedKeys(linkErrs) {
			*errs = append(*errs, ImportError{
				Row:     rowNum,
				Field:   socialPrefix + network,
				Value:   group[network],
				Message: "invalid social link: " + linkErrs[network].Error(),
			})
		}
		if len(links) > 0 {
			f.SocialLinks = links
		}
	}

	c := &Candidate{
		Row:     rowNum,
		Entity:  EntityContacts,
		Contact: f,
		refs: refTokens{
			owner:       m.value(row, FieldAssignee),
			ownerMapped: m.mapping.Has(FieldAssignee),
		},
	}
	if f.Email != "" {
		c.LookupKeys = append(c.LookupKeys, EmailKey(f.Email))
	}
	if f.Phone != "" {
		c.LookupKeys = append(c.LookupKeys, PhoneKey(f.Phone))
	}
	c.NaturalKey = c.LookupKeys[0]
	return c
}

// socialGroup collects the non-blank social link cells, from either a
// socialLinks group binding or flat "socialLinks.<network>" bindings.
func (m *Mapper) socialGroup(row RawRow) map[string]string {
	group := make(map[string]string)
	if b, ok := m.mapping[FieldSocialLinks]; ok && b.Kind == BindingGroup {
		for network, col := range b.Group {
			if v := row.Value(col); v != "" {
				group[strings.ToLower(network)] = v
			}
		}
	}
	for field, b := range m.mapping {
		network, ok := strings.CutPrefix(field, socialPrefix)
		if !ok || b.Kind != BindingColumn || network == "" {
			continue
		}
		if v := row.Value(b.Column); v != "" {
			group[strings.ToLower(network)] = v
		}
	}
	return group
}

func (m *Mapper) mapDeal(row RawRow, rowNum int, errs *[]ImportError) *Candidate {
	f := &DealFields{}
	failed := false

	f.Title = m.value(row, FieldTitle)
	if f.Title == "" {
		*errs = append(*errs, ImportError{Row: rowNum, Field: FieldTitle, Message: "title is required"})
		failed = true
	}
	if m.mapping.Has(FieldNumber) {
		f.Number = m.value(row, FieldNumber)
		if f.Number == "" {
			*errs = append(*errs, ImportError{Row: rowNum, Field: FieldNumber, Message: "deal number is required when the number column is mapped"})
			failed = true
		}
	}
	if failed {
		return nil
	}

	f.Description = m.value(row, FieldDescription)
	f.Tags = SplitMulti(m.value(row, FieldTags))
	f.RejectionReasons = SplitMulti(m.value(row, FieldRejectionReasons))
	f.Currency = strings.ToUpper(m.value(row, FieldCurrency))

	if raw := m.value(row, FieldAmount); raw != "" {
		amount, currency, ok := ParseAmount(raw)
		if ok {
			f.Amount = decimal.NullDecimal{Decimal: amount, Valid: true}
			if f.Currency == "" {
				f.Currency = currency
			}
		} else {
			*errs = append(*errs, ImportError{Row: rowNum, Field: FieldAmount, Value: raw, Message: "invalid number"})
		}
	}

	if raw := m.value(row, FieldExpectedClose); raw != "" {
		if d, ok := ParseDate(raw); ok {
			f.ExpectedClose = &d
		} else {
			*errs = append(*errs, ImportError{Row: rowNum, Field: FieldExpectedClose, Value: raw, Message: "unrecognized date format"})
		}
	}

	refs := refTokens{
		owner:       m.value(row, FieldAssignee),
		ownerMapped: m.mapping.Has(FieldAssignee),
		stage:       m.value(row, FieldStage),
	}
	if raw := m.value(row, FieldContactEmail); raw != "" {
		if email, err := m.norm.Email(raw); err == nil {
			refs.contactEmail = email
		} else {
			*errs = append(*errs, ImportError{Row: rowNum, Field: FieldContactEmail, Value: raw, Message: "invalid email: " + err.Error()})
		}
	}
	if raw := m.value(row, FieldContactPhone); raw != "" {
		if phone, err := m.norm.Phone(raw); err == nil {
			refs.contactPhone = phone
		} else {
			*errs = append(*errs, ImportError{Row: rowNum, Field: FieldContactPhone, Value: raw, Message: "invalid phone: " + err.Error()})
		}
	}

	c := &Candidate{
		Row:    rowNum,
		Entity: EntityDeals,
		Deal:   f,
		refs:   refs,
	}
	if f.Number != "" {
		c.NaturalKey = NumberKey(f.Number)
		c.LookupKeys = []string{c.NaturalKey}
	}
	return c
}

// contactKeys returns the existing-contact lookup tokens of a deal row.
func (c *Candidate) contactKeys() []string {
	var keys []string
	if c.refs.contactEmail != "" {
		keys = append(keys, EmailKey(c.refs.contactEmail))
	}
	if c.refs.contactPhone != "" {
		keys = append(keys, PhoneKey(c.refs.contactPhone))
	}
	return keys
}

// assignee returns the assignee slot of the candidate's entity.
func (c *Candidate) assignee() **uuid.UUID {
	if c.Deal != nil {
		return &c.Deal.AssigneeID
	}
	return &c.Contact.AssigneeID
}
