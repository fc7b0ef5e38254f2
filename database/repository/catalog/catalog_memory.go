package catalogRepo

import (
	"context"
	"sort"
	"sync"

	"medibook/models"
)

type MemoryCatalogRepo struct {
	mu       sync.RWMutex
	clinics  map[string]models.Clinic
	doctors  map[string]models.Doctor
	packages map[string]models.CheckupPackage
}

func NewMemoryCatalogRepo() *MemoryCatalogRepo {
	return &MemoryCatalogRepo{
		clinics:  make(map[string]models.Clinic),
		doctors:  make(map[string]models.Doctor),
		packages: make(map[string]models.CheckupPackage),
	}
}

func (r *MemoryCatalogRepo) SeedClinic(c models.Clinic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clinics[c.ID] = c
}

func (r *MemoryCatalogRepo) SeedDoctor(d models.Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = d
}

func (r *MemoryCatalogRepo) SeedPackage(p models.CheckupPackage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages[p.ID] = p
}

func (r *MemoryCatalogRepo) GetClinic(ctx context.Context, id string) (*models.Clinic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clinics[id]
	if !ok || !c.Active {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r *MemoryCatalogRepo) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Clinic
	for _, c := range r.clinics {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryCatalogRepo) GetDoctor(ctx context.Context, id string) (*models.Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok || !d.Active {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (r *MemoryCatalogRepo) GetPackage(ctx context.Context, id string) (*models.CheckupPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packages[id]
	if !ok || !p.Active {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryCatalogRepo) ListPackages(ctx context.Context, clinicID string) ([]models.CheckupPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.CheckupPackage
	for _, p := range r.packages {
		if !p.Active {
			continue
		}
		if clinicID != "" && p.ClinicID != clinicID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
