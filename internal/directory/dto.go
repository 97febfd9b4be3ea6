package directory

import (
	"encoding/json"

	"github.com/companydir/companydir/internal/tags"
)

// TagRequest is one tag label bundle in a request body. Both "tagName" and
// "tag_name" are accepted.
type TagRequest struct {
	TagName map[string]string `json:"tagName" validate:"required,min=1,dive,keys,required,endkeys,required"`
}

// UnmarshalJSON accepts camelCase and snake_case keys.
func (t *TagRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Camel map[string]string `json:"tagName"`
		Snake map[string]string `json:"tag_name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.TagName = raw.Camel
	if t.TagName == nil {
		t.TagName = raw.Snake
	}
	return nil
}

// CreateCompanyRequest is the POST /companies body.
type CreateCompanyRequest struct {
	CompanyName map[string]string `json:"companyName" validate:"required,min=1,dive,keys,required,endkeys,required"`
	Tags        []TagRequest      `json:"tags" validate:"dive"`
}

// UnmarshalJSON accepts camelCase and snake_case keys.
func (c *CreateCompanyRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Camel map[string]string `json:"companyName"`
		Snake map[string]string `json:"company_name"`
		Tags  []TagRequest      `json:"tags"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.CompanyName = raw.Camel
	if c.CompanyName == nil {
		c.CompanyName = raw.Snake
	}
	c.Tags = raw.Tags
	return nil
}

// ToNewCompany converts the request into the service input.
func (c CreateCompanyRequest) ToNewCompany() NewCompany {
	return NewCompany{Names: c.CompanyName, Tags: bundles(c.Tags)}
}

func bundles(reqs []TagRequest) []tags.LabelBundle {
	out := make([]tags.LabelBundle, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, tags.LabelBundle(req.TagName))
	}
	return out
}

// listResponse wraps list payloads as {"data": [...]}.
type listResponse[T any] struct {
	Data []T `json:"data"`
}

// detailResponse wraps the detail payload as {"data": {...}}.
type detailResponse struct {
	Data CompanyDetail `json:"data"`
}
