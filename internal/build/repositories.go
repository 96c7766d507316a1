package build

// ProfileRepository resolves guest profiles.
type ProfileRepository interface {
	Resolve(osID, archID string) (GuestProfile, error)
	ListAll() []GuestProfile
}
