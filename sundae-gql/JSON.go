package sundaegql

import "encoding/json"

// JSON is the schema's JSON scalar. Values pass through untyped in both
// directions.
type JSON struct {
	Data interface{}
}

func (JSON) ImplementsGraphQLType(name string) bool {
	return name == "JSON"
}

func (j *JSON) UnmarshalGraphQL(input interface{}) error {
	j.Data = input
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if j.Data == nil {
		return []byte("null"), nil
	}
	return json.Marshal(j.Data)
}
