package security

import (
	"testing"
)

func TestValidateBranchName(t *testing.T) {
	tests := []struct {
		name    string
		branch  string
		wantErr bool
	}{
		{"main branch", "main", false},
		{"feature branch", "feature/new-feature", false},
		{"release branch", "release/v1.0.0", false},
		{"with underscores", "my_feature_branch", false},

		{"empty branch", "", true},
		{"starts with dash", "-malicious", true},
		{"parent traversal", "feature/../main", true},
		{"command injection semicolon", "main; rm -rf /", true},
		{"command injection backtick", "main`whoami`", true},
		{"command injection dollar", "main$(whoami)", true},
		{"spaces", "my branch", true},
		{"newline", "main\nmalicious", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBranchName(tt.branch)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBranchName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRepositoryName(t *testing.T) {
	tests := []struct {
		name     string
		fullName string
		wantErr  bool
	}{
		{"simple", "octo/app", false},
		{"dots and dashes", "my-org/app.web", false},
		{"empty", "", true},
		{"no owner", "app", true},
		{"nested", "a/b/c", true},
		{"traversal", "../etc", true},
		{"dot segment", "octo/..", true},
		{"leading dash", "-x/app", true},
		{"shell chars", "octo/app;rm", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRepositoryName(tt.fullName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRepositoryName(%q) error = %v, wantErr %v", tt.fullName, err, tt.wantErr)
			}
		})
	}
}

func TestMirrorDirName(t *testing.T) {
	got, err := MirrorDirName("octo/app")
	if err != nil {
		t.Fatalf("MirrorDirName() error = %v", err)
	}
	if got != "octo_app" {
		t.Errorf("MirrorDirName() = %q, want %q", got, "octo_app")
	}

	if _, err := MirrorDirName("../../etc"); err == nil {
		t.Error("MirrorDirName() should reject traversal")
	}
}

func TestValidateCloneURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid github https", "https://github.com/user/repo", false},
		{"valid github https with .git", "https://github.com/user/repo.git", false},
		{"valid with dashes", "https://github.com/my-user/my-repo.git", false},
		{"valid with dots in repo", "https://github.com/user/repo.name.git", false},

		{"command injection semicolon", "https://github.com/user/repo.git; rm -rf /", true},
		{"command injection pipe", "https://github.com/user/repo.git | cat /etc/passwd", true},
		{"command injection backtick", "https://github.com/user/repo`whoami`.git", true},
		{"command injection dollar", "https://github.com/user/repo$(whoami).git", true},

		{"path traversal", "https://github.com/../../../etc/passwd", true},
		{"dot dot repo", "https://github.com/user/..", true},

		{"http instead of https", "http://github.com/user/repo.git", true},
		{"ssh protocol", "ssh://git@github.com/user/repo.git", true},
		{"local path", "/srv/repos/app.git", true},
		{"file url", "file:///srv/repos/app.git", true},
		{"gitlab instead of github", "https://gitlab.com/user/repo.git", true},
		{"malicious host", "https://evil.github.com.attacker.com/user/repo.git", true},

		{"empty url", "", true},
		{"missing repo", "https://github.com/user", true},
		{"credentials in url", "https://token@github.com/user/repo.git", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCloneURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCloneURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsCommitHash(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"4b825dc642cb6eb9a060e54bf8d69288fbee4904", true},
		{"6ef19b41225c5369f1c104d45d8d85efa9b057b53b14b4b9b939dd74decc5321", true},
		{"main", false},
		{"4b825dc", false},
		{"4B825DC642CB6EB9A060E54BF8D69288FBEE4904", false},
		{"release/4b825dc642cb6eb9a060e54bf8d69288fbee4904", false},
	}

	for _, tt := range tests {
		if got := IsCommitHash(tt.ref); got != tt.want {
			t.Errorf("IsCommitHash(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}
