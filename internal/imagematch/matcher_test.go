package imagematch

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Apple AirPods Pro 3", "apple airpods pro 3"},
		{"apple-airpods-pro-3.jpg", "appleairpodspro3jpg"},
		{"  CaFé! 42  ", "café 42"},
		{"", ""},
		{"---", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		name    string
		product string
		files   []string
		want    string
	}{
		{
			name:    "full name substring",
			product: "Apple AirPods Pro 3",
			files:   []string{"apple-airpods-pro-3.jpg", "other.png"},
			want:    "apple-airpods-pro-3.jpg",
		},
		{
			name:    "first token fallback",
			product: "Laptop Pro 15",
			files:   []string{"random.png", "laptop-sideview.jpg"},
			want:    "laptop-sideview.jpg",
		},
		{
			name:    "any long token fallback",
			product: "HD Wireless Headphones",
			files:   []string{"cable.jpg", "headphones-black.jpg"},
			want:    "headphones-black.jpg",
		},
		{
			name:    "short tokens never match",
			product: "X",
			files:   []string{"box-set.jpg", "x.png"},
			want:    "",
		},
		{
			name:    "no match",
			product: "Espresso Machine",
			files:   []string{"keyboard.jpg", "mouse.png"},
			want:    "",
		},
		{
			name:    "first file in listing order wins",
			product: "Smartphone X",
			files:   []string{"smartphone-a.jpg", "smartphone-b.jpg"},
			want:    "smartphone-a.jpg",
		},
		{
			name:    "empty name",
			product: "   ",
			files:   []string{"anything.jpg"},
			want:    "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(tc.product, tc.files); got != tc.want {
				t.Fatalf("Match(%q) = %q, want %q", tc.product, got, tc.want)
			}
		})
	}
}

func TestStaticListerCopies(t *testing.T) {
	lister := StaticLister{Files: []string{"a.jpg", "b.jpg"}}
	files, err := lister.ListImages()
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	files[0] = "mutated.jpg"
	again, _ := lister.ListImages()
	if again[0] != "a.jpg" {
		t.Fatalf("lister leaked its backing slice")
	}
}
