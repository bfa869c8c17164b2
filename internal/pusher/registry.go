package pusher

// AppRegistry maps app keys and ids to applications. Contents are set at
// startup; lookups assume no concurrent mutation.
type AppRegistry struct {
	byKey map[string]*App
}

// NewAppRegistry builds a registry from the given apps.
func NewAppRegistry(apps ...*App) *AppRegistry {
	r := &AppRegistry{byKey: make(map[string]*App, len(apps))}
	for _, app := range apps {
		r.byKey[app.Key] = app
	}
	return r
}

// Add registers an app. Startup-time only.
func (r *AppRegistry) Add(app *App) {
	r.byKey[app.Key] = app
}

// FindByKey returns the app registered under key.
func (r *AppRegistry) FindByKey(key string) (*App, error) {
	if app, ok := r.byKey[key]; ok {
		return app, nil
	}
	return nil, ErrAppKeyNotFound
}

// FindByID returns the app with the given numeric id.
func (r *AppRegistry) FindByID(id uint32) (*App, error) {
	for _, app := range r.byKey {
		if app.ID == id {
			return app, nil
		}
	}
	return nil, ErrAppIDNotFound
}

// Apps returns all registered apps.
func (r *AppRegistry) Apps() []*App {
	apps := make([]*App, 0, len(r.byKey))
	for _, app := range r.byKey {
		apps = append(apps, app)
	}
	return apps
}
