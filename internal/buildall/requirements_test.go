package buildall

import (
	"reflect"
	"testing"
)

func TestParseRequirementsFile(t *testing.T) {
	data := []byte(`
# comment
oslo.config>=9.0.0
oslo-log~=5.0  # inline comment
-r other-requirements.txt
python-keystoneclient[test]>=4.0.0

neutron-lib
`)
	got := ParseRequirementsFile(data)
	want := []string{"oslo.config", "oslo-log", "python-keystoneclient", "neutron-lib"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseRequirementsFile() = %v, want %v", got, want)
	}
}

type fakeRequirementsSource map[string][2]string

func (f fakeRequirementsSource) ReadRequirements(pkg string) ([]byte, []byte, error) {
	entry := f[pkg]
	return []byte(entry[0]), []byte(entry[1]), nil
}

func TestSuggestCycleBreaks(t *testing.T) {
	src := fakeRequirementsSource{
		"nova":    {"neutron-lib>=2.0\n", ""},
		"neutron": {"", ""},
	}
	cycles := [][]string{{"nova", "neutron"}}
	got := SuggestCycleBreaks(cycles, src)
	if len(got) != 0 {
		t.Fatalf("expected no suggestion for neutron-lib vs neutron mismatch, got %v", got)
	}

	src2 := fakeRequirementsSource{
		"nova":    {"python-neutron>=2.0\n", ""},
		"neutron": {"", ""},
	}
	got2 := SuggestCycleBreaks(cycles, src2)
	if len(got2) != 1 || got2[0].Package != "nova" || got2[0].DependsOn != "neutron" {
		t.Fatalf("SuggestCycleBreaks() = %+v, want one suggestion nova->neutron", got2)
	}
}

func TestSuggestCycleBreaksNilSource(t *testing.T) {
	if got := SuggestCycleBreaks([][]string{{"a", "b"}}, nil); got != nil {
		t.Errorf("SuggestCycleBreaks(nil source) = %v, want nil", got)
	}
}
